package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// ContainsAny 判断 set 中是否包含 values 中的任意一个
func ContainsAny[T any](set sets.Set, values ...T) bool {
	for _, v := range values {
		if set.Contains(v) {
			return true
		}
	}
	return false
}
