package core

import "github.com/pkg/errors"

var ErrInvalidOrdering = errors.New("invalid ordering field")

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// MapOrderings translates API ordering fields to storage columns using `columns` ({field: column}).
func MapOrderings(ords []DBOrdering, columns map[string]string) ([]DBOrdering, error) {
	mapped := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		col, ok := columns[ord.Field]
		if !ok {
			return nil, NewValidationError(ErrInvalidOrdering, FieldError{Field: "ordering", Error: ord.Field + ": " + ErrInvalidOrdering.Error()})
		}
		mapped = append(mapped, DBOrdering{Field: col, Ascending: ord.Ascending})
	}
	return mapped, nil
}
