package config

// FetchConfig is what the raw-data stage needs.
type FetchConfig struct {
	Mode      string
	ChunkSize int
	CacheDir  string
}

// ModelConfig is what the predict stage needs.
type ModelConfig struct {
	TargetColumnNames []string
	DropColumns       []string
	DateColumnName    string
	DateFilterValue   int
	RandomState       int64
	MaxIterations     int
	Alpha             float64
}

// SinkConfig is what the remote sink stage needs.
type SinkConfig struct {
	DatasetID string
}

// PlotConfig is what the plot stage needs.
type PlotConfig struct {
	DateColumnName string
	MinYear        int
	MarkerYear     int
	WidthInches    float64
	HeightInches   float64
}

// FetchView returns the fetch stage's configuration.
func (c *Config) FetchView() FetchConfig {
	return FetchConfig{Mode: c.Fetch.Mode, ChunkSize: c.Fetch.ChunkSize, CacheDir: c.Fetch.CacheDir}
}

// ModelView returns the predict stage's configuration.
func (c *Config) ModelView() ModelConfig {
	return ModelConfig{
		TargetColumnNames: append([]string(nil), c.Model.TargetColumnNames...),
		DropColumns:       append([]string(nil), c.Model.DropColumns...),
		DateColumnName:    c.Model.DateColumnName,
		DateFilterValue:   c.Model.DateFilterValue,
		RandomState:       c.Model.RandomState,
		MaxIterations:     c.Model.MaxIterations,
		Alpha:             c.Model.Alpha,
	}
}

// SinkView returns the store stage's configuration.
func (c *Config) SinkView() SinkConfig {
	return SinkConfig{DatasetID: c.Warehouse.DatasetID}
}

// PlotView returns the plot stage's configuration.
func (c *Config) PlotView() PlotConfig {
	return PlotConfig{
		DateColumnName: c.Model.DateColumnName,
		MinYear:        c.Plot.MinYear,
		MarkerYear:     c.Plot.MarkerYear,
		WidthInches:    c.Plot.WidthInches,
		HeightInches:   c.Plot.HeightInches,
	}
}
