package instructions

import (
	"github.com/openfroyo/otaupdater/pkg/script"
)

// Builtins returns the basic built-in instructions keyed by reserved name.
func Builtins() map[string]script.Instruction {
	return map[string]script.Instruction{
		script.NameAbort:        Abort{},
		script.NameAssert:       Assert{},
		script.NameSleep:        NewSleep(),
		script.NameConcat:       Concat{},
		script.NameIsSubstring:  IsSubstring{},
		script.NameStdout:       Stdout{},
		script.NameSetProgress:  SetProgress{},
		script.NameShowProgress: ShowProgress{},
		script.NameUIPrint:      UIPrint{},
		script.NamePkgExtract:   PkgExtract{},
	}
}
