// Package device maps kernel block device identifiers to stable, human
// readable paths.
//
// Block tracepoints identify devices by their "major,minor" pair. Resolution
// goes through the partition table (/proc/partitions) to find the kernel name,
// then, for device-mapper devices, through the symlinks in /dev/mapper to
// recover a volume-group/logical-volume style path such as /dev/vg0/root.
//
// The device-mapper step is a heuristic based on LVM's dash escaping
// convention rather than a kernel contract, so it is a pluggable
// StackedNamer and can be replaced or stubbed.
package device
