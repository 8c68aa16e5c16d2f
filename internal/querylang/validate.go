package querylang

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidate = validator.New()

// validateStatement runs struct-tag validation over a just-parsed
// statement, catching shapes the grammar itself can produce but that
// make no sense downstream (an INSERT with zero columns, a SELECT with
// an empty table name) before the engine ever reaches the planner.
func validateStatement(s Statement) error {
	if err := structValidate.Struct(s); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			e := fieldErrs[0]
			return fmt.Errorf("querylang: %s failed %q validation", e.Namespace(), e.Tag())
		}
		return err
	}
	return nil
}
