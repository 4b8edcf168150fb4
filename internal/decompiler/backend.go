package decompiler

// Backend describes one external decompiler and how to invoke it. All
// backends are java tools driven through argument templates; output always
// goes to the directory passed in, never anywhere the tool chooses.
type Backend struct {
	Name    string
	ToolJar string // filename under the tools directory
	// AcceptsMappingFile marks tools that consume a mapping file directly.
	// None of the current tools do, so symbol translation happens around
	// the backend instead: bytecode remap before, source rename after.
	AcceptsMappingFile bool
	// BuildArgs produces the java argv after "-jar <toolJar>".
	BuildArgs func(inputJar, outputDir string) []string
}

var backends = []Backend{
	{
		Name:               "cfr",
		ToolJar:            "cfr.jar",
		AcceptsMappingFile: false,
		BuildArgs: func(inputJar, outputDir string) []string {
			return []string{inputJar, "--outputdir", outputDir, "--silent", "true"}
		},
	},
	{
		Name:               "fernflower",
		ToolJar:            "fernflower.jar",
		AcceptsMappingFile: false,
		BuildArgs: func(inputJar, outputDir string) []string {
			return []string{inputJar, outputDir}
		},
	},
	{
		Name:               "jd-cli",
		ToolJar:            "jd-cli.jar",
		AcceptsMappingFile: false,
		BuildArgs: func(inputJar, outputDir string) []string {
			return []string{"-od", outputDir, inputJar}
		},
	},
}

// LookupBackend returns the descriptor for a configured backend name.
func LookupBackend(name string) (Backend, bool) {
	for _, b := range backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

// BackendNames lists all supported backend names in default preference order.
func BackendNames() []string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name
	}
	return names
}
