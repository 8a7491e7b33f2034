package compiler

import (
	"fmt"

	"github.com/roach88/recfield/internal/model"
)

// Register declares specs on reg: mixins, then record types, then
// extensions, each in source order. Functions named by the declarations
// are bound separately with model.Registry.Bind.
func Register(reg *model.Registry, specs []ModelSpec) error {
	for _, kind := range Kinds {
		for _, spec := range specs {
			if spec.Kind != kind {
				continue
			}
			var err error
			switch kind {
			case KindMixin:
				err = reg.DeclareMixin(spec.Decl)
			case KindModel:
				err = reg.Declare(spec.Decl)
			case KindExtension:
				err = reg.Extend(spec.Decl)
			}
			if err != nil {
				return fmt.Errorf("register %s %q: %w", kind, spec.Decl.Name, err)
			}
		}
	}
	return nil
}
