package fsmon

import "os"

// debug gates the FSMON_DEBUG-conditional native-flag tracing each
// backend emits via internal.Debug. Checked once at package init,
// exactly like the upstream FSNOTIFY_DEBUG switch this is modeled on.
var debug = os.Getenv("FSMON_DEBUG") != ""
