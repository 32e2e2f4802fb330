//go:build !unix

package pool

func pageSize() int {
	return 4096
}
