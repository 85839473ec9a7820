package param

// Partition splits a list of elements in two based on predicate. Elements for
// which the predicate returns true are placed in the first list, the rest in
// the second.
func Partition[T any](elements []T, predicate func(T) bool) (truthy, falsy []T) {
	for _, element := range elements {
		if predicate(element) {
			truthy = append(truthy, element)
		} else {
			falsy = append(falsy, element)
		}
	}
	return truthy, falsy
}
