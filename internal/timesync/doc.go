// Package timesync converts trace clock timestamps to wall-clock time.
//
// ftrace stamps events in seconds since boot when the instance uses the
// "mono" clock. Adding the boot time from /proc/stat (btime) yields an
// absolute time, good to about a second.
package timesync
