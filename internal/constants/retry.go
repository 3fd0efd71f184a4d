package constants

import "time"

// 凭证轮换与退避
const (
	RetryWaitBudget  = 45 * time.Second
	RetryMaxBackoff  = 10 * time.Second
	RetryBaseBackoff = 1 * time.Second
	RetryMinBackoff  = 10 * time.Millisecond
)
