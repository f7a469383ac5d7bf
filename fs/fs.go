package appfs

import "embed"

// FS embeds the app's static assets: DB migrations, email templates
// and the default capability grant matrix.
//go:embed migrations templates grants.json
var FS embed.FS
