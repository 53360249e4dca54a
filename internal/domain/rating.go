package domain

// RatingAggregate provides average and count for a recipe's rated comments.
type RatingAggregate struct {
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}
