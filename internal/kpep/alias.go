package kpep

// EventAlias maps a display name to the database event names that can back
// it, ordered newest architecture first. Resolution takes the first name
// present in the open database.
type EventAlias struct {
	Alias string
	Names []string
}

// DefaultEvents returns the profile event set: cycles, instructions,
// branches and branch misses, with fallbacks covering Apple Silicon and
// Intel databases.
func DefaultEvents() []EventAlias {
	return []EventAlias{
		{"cycles", []string{
			"FIXED_CYCLES",            // Apple A7-A15
			"CPU_CLK_UNHALTED.THREAD", // Intel Core 1th-10th
			"CPU_CLK_UNHALTED.CORE",   // Intel Yonah, Merom
		}},
		{"instructions", []string{
			"FIXED_INSTRUCTIONS", // Apple A7-A15
			"INST_RETIRED.ANY",   // Intel Yonah, Merom, Core 1th-10th
		}},
		{"branches", []string{
			"INST_BRANCH",                  // Apple A7-A15
			"BR_INST_RETIRED.ALL_BRANCHES", // Intel Core 1th-10th
			"INST_RETIRED.ANY",             // Intel Yonah, Merom
		}},
		{"branch-misses", []string{
			"BRANCH_MISPRED_NONSPEC",       // Apple A7-A15, since iOS 15, macOS 12
			"BRANCH_MISPREDICT",            // Apple A7-A14
			"BR_MISP_RETIRED.ALL_BRANCHES", // Intel Core 2th-10th
			"BR_INST_RETIRED.MISPRED",      // Intel Yonah, Merom
		}},
	}
}
