// Package builtins registers every in-tree plugin kind. Import it for side
// effects from any binary that loads plugin configurations.
package builtins

import (
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/denyfilter"
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/headerinject"
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/regexfilter"
)
