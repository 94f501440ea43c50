package repository

import "fmt"

func fmtTaskNotFound(taskID string) error {
	return fmt.Errorf("task not found: %s", taskID)
}
