package healpix

import "fmt"

// ToParent returns the ancestor of (order, pix) at parentOrder.
func (m *Mapper) ToParent(order int, pix uint64, parentOrder int) (uint64, error) {
	if err := ValidatePix(order, pix); err != nil {
		return 0, err
	}
	if err := ValidateOrder(parentOrder); err != nil {
		return 0, err
	}
	if parentOrder > order {
		return 0, fmt.Errorf("parentOrder %d must be <= pixel order %d", parentOrder, order)
	}
	return pix >> (2 * uint(order-parentOrder)), nil
}

// ToChildren returns the descendants of (order, pix) at childOrder in
// ascending index order.
func (m *Mapper) ToChildren(order int, pix uint64, childOrder int) ([]uint64, error) {
	if err := ValidatePix(order, pix); err != nil {
		return nil, err
	}
	if err := ValidateOrder(childOrder); err != nil {
		return nil, err
	}
	if childOrder < order {
		return nil, fmt.Errorf("childOrder %d must be >= pixel order %d", childOrder, order)
	}
	const maxExpand = 16 // 4^16 children
	if childOrder-order > maxExpand {
		return nil, fmt.Errorf("refusing to expand %d orders (max %d)", childOrder-order, maxExpand)
	}
	shift := 2 * uint(childOrder-order)
	first := pix << shift
	n := uint64(1) << shift
	out := make([]uint64, n)
	for i := range out {
		out[i] = first + uint64(i)
	}
	return out, nil
}
