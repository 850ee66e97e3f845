package version

// Current is the released version, without a leading "v". Overridable with
// -ldflags "-X github.com/shpitdev/vocab-enricher/internal/version.Current=x.y.z".
var Current = "0.1.0"
