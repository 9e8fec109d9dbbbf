package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("EXPENSEFLOW_TEST_MODE") == "" {
			_ = os.Setenv("EXPENSEFLOW_TEST_MODE", "1")
		}
	})
}
