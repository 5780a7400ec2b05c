package domain

// transitions lists every permitted product status change. Nothing leaves sold.
var transitions = map[ProductStatus][]ProductStatus{
	StatusDraft:     {StatusAvailable},
	StatusAvailable: {StatusReserved, StatusDraft},
	StatusReserved:  {StatusAvailable, StatusSold, StatusDraft},
}

func (s ProductStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusAvailable, StatusReserved, StatusSold:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows s -> to.
func (s ProductStatus) CanTransition(to ProductStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Visible reports whether buyers can see and queue for a product in this status.
func (s ProductStatus) Visible() bool {
	return s == StatusAvailable || s == StatusReserved
}

func (s WantListStatus) Closed() bool {
	return s == WantListCompleted || s == WantListCancelled
}
