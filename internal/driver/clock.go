package driver

import "time"

func nowEpoch() int64 {
	return time.Now().Unix()
}
