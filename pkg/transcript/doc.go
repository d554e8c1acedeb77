// Package transcript reads the append-only transcripts written by proglog.
//
// # Overview
//
// A transcript interleaves everything that crossed a child's standard
// streams during one or more sessions:
//
//  1. bytes typed by the operator before they were forwarded to the child
//  2. bytes the child wrote to stdout and stderr before they were forwarded
//     to the operator
//  3. one synthetic command record at the start of every session
//
// # Format Specification
//
// A transcript is a sequence of records. Each record is
//
//	label payload
//
// where payload always ends with \n and contains no other newline.
//
// # Fields
//
//   - label: 26 bytes. '@', 24 lowercase hex digits, ' '. The hex digits
//     are a TAI64N timestamp: an 8-byte big-endian seconds field holding
//     Unix seconds plus 2^62+10, then a 4-byte big-endian nanoseconds
//     field. Labels sort in time order as plain bytes.
//   - payload: one line of traffic including its newline. A line that was
//     still unterminated when its stream ended is closed with an added \n.
//
// All lines read from the same stream in one read share a label, so equal
// consecutive labels mark one batch.
//
// # Command Records
//
// A session starts with
//
//	label "$" (" " arg)* "\n"
//
// for the child's full argument vector. Newlines inside arguments are
// written as the two characters \n.
//
// # Examples
//
//	@4000000067a1b2c30a1b2c3d $ sh -c echo hello
//	@4000000067a1b2c30a1c0011 hello
//
// Stream names are not recorded; the transcript is a timeline, not a
// demultiplexable container.
package transcript
