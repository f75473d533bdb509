// Package interactive implements the line-protocol surface (spec §6): a
// bufio-driven read-eval-print loop equivalent to the RPC surface, with
// commands prefixed by "." (.init, .submit, .activate, .run, .update,
// .prop, .state, .config, .start, .stop, .reset, .term, .down, .status,
// .batch, .sleep, .help, .quit). No CLI framework is introduced, matching
// the ambient stack: the teacher never reaches for one either.
package interactive
