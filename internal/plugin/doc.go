// Package plugin invokes an external resource-plugin executable and
// decodes its stdout into worker-batch descriptors (spec §2 component #7,
// §4.2 Submit). The plugin binary is resolved by name and run once per
// Invoke call with the resource-spec string passed as its sole argument;
// stderr is captured for error reporting the same way an invocation
// failure would be diagnosed from any external tool.
package plugin
