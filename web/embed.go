package webassets

import "embed"

// FS holds the browser client served by the dashboard proxy.
//
//go:embed highland-client.js
var FS embed.FS

// ClientScript is the path of the browser client inside FS.
const ClientScript = "highland-client.js"
