package sqlassets

import _ "embed"

//go:embed schema/asset_tags/asset_tag_settings.sql
var AssetTagSettingsSQL string
