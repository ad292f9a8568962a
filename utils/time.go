package utils

import "time"

// NowUnixMilli retorna el timestamp actual en milisegundos Unix.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
