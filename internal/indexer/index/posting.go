package index

// Posting records one term's occurrences within one chunk.
type Posting struct {
	ChunkID   string
	Frequency int
	Positions []int
}

type PostingList []Posting

