// Package blktrace parses block-layer tracepoint records read from an ftrace
// trace_pipe.
//
// A record looks like:
//
//	kworker/u8:0-123 [002] .... 1234.567890: block_rq_insert: 8,0 R 4096 () 1024 + 8 [kworker]
//	          <idle>-0 [002] d.h. 1234.570001: block_rq_complete: 8,0 R () 1024 + 8 [0]
//
// The leading task field may contain whitespace, so records are aligned on
// the CPU bracket. The command field in parentheses may contain whitespace
// too, so sector and sector count are located around the "+" token.
package blktrace
