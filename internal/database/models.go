package database

// Story is the catalog record of a generated story folder.
type Story struct {
	ID              int64
	Slug            string
	Title           string
	Premise         *string
	Folder          string
	SegmentCount    int
	DurationSeconds float64
	// Fallbacks counts remote calls that ended in a placeholder artifact.
	Fallbacks int
	CreatedAt *string
	UpdatedAt *string
}

// Run records one invocation of generate, repair, process or regenerate.
type Run struct {
	ID         string
	Kind       string
	StartedAt  *string
	FinishedAt *string
	Processed  int
	Succeeded  int
	Failed     int
}

// Repair is one narrow fix applied to a story folder.
type Repair struct {
	ID        int64
	RunID     string
	Slug      string
	Action    string
	CreatedAt *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Stories              int
	StoriesWithFallbacks int
	Runs                 int
	Repairs              int
}
