package engine

import "fmt"

var errManagerClosed = fmt.Errorf("sync manager is closed")

func errRequired(name string) error {
	return fmt.Errorf("%s is required", name)
}
