package config

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func TestDecodeOverridesDefaults(t *testing.T) {
	doc := []byte(`
scratch_root = "/var/run/modloaderd/scratch"
shard_count = 16
default_app_imports = ["com/acme/"]

[registry]
endpoint = "registry.internal:5000"
namespace = "modules"
`)
	cfg, err := Decode(doc)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(cfg.ScratchRoot, "/var/run/modloaderd/scratch"))
	qt.Assert(t, qt.Equals(cfg.ShardCount, 16))
	qt.Assert(t, qt.DeepEquals(cfg.DefaultAppImports, []string{"com/acme/"}))
	qt.Assert(t, qt.Equals(cfg.Registry.Endpoint, "registry.internal:5000"))
	qt.Assert(t, qt.Equals(cfg.PollInterval, 5*time.Second))
}

func TestDecodeRejectsNonPositiveShardCount(t *testing.T) {
	_, err := Decode([]byte(`shard_count = 0`))
	qt.Assert(t, qt.IsNotNil(err))
}
