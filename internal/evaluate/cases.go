package evaluate

// DefaultCases is a small labeled set covering exact matches, abbreviations,
// nicknames, formatting differences, typos and two non-matches.
func DefaultCases() []Case {
	return []Case{
		{
			Name:          "Exact Match",
			RecordA:       map[string]string{"name": "John Smith", "age": "45", "city": "New York"},
			RecordB:       map[string]string{"name": "John Smith", "age": "45", "city": "New York"},
			ExpectedMatch: true,
		},
		{
			Name:          "Name Abbreviation",
			RecordA:       map[string]string{"name": "John F. Kennedy", "birth_year": "1917"},
			RecordB:       map[string]string{"name": "John Fitzgerald Kennedy", "birth_year": "1917"},
			ExpectedMatch: true,
		},
		{
			Name:          "Nickname (Robert -> Bob)",
			RecordA:       map[string]string{"name": "Robert Smith", "address": "123 Main St"},
			RecordB:       map[string]string{"name": "Bob Smith", "address": "123 Main Street"},
			ExpectedMatch: true,
		},
		{
			Name:          "Address Format Difference",
			RecordA:       map[string]string{"address": "123 Main Street", "city": "New York", "state": "NY"},
			RecordB:       map[string]string{"address": "123 Main St.", "city": "New York", "state": "New York"},
			ExpectedMatch: true,
		},
		{
			Name:          "Typo (Christopher -> Chistopher)",
			RecordA:       map[string]string{"name": "Christopher Anderson", "address": "456 Oak Avenue"},
			RecordB:       map[string]string{"name": "Chistopher Anderson", "address": "456 0ak Avenue"},
			ExpectedMatch: true,
		},
		{
			Name:          "Different People (Non-match)",
			RecordA:       map[string]string{"name": "John Smith", "age": "45"},
			RecordB:       map[string]string{"name": "Jane Doe", "age": "32"},
			ExpectedMatch: false,
		},
		{
			Name:          "Same Name, Different Location (Non-match)",
			RecordA:       map[string]string{"name": "Michael Brown", "city": "Boston"},
			RecordB:       map[string]string{"name": "Michael Brown", "city": "Seattle"},
			ExpectedMatch: false,
		},
	}
}
