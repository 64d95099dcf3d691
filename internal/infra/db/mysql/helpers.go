package mysql

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL error 1452: cannot add or update a child row (FK constraint fails).
const errFKConstraint = 1452

func isFKViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errFKConstraint
}
