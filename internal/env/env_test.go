package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge_LaterWinsAndOrderKept(t *testing.T) {
	got := Merge([]string{"A=1", "B=2", "=bad", "noeq"}, []string{"B=3", "C=4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, got)
}

func TestExpand(t *testing.T) {
	vars := Vars{"SERVICE_HOST": "127.0.0.1", "SERVICE_PORT": "8080"}
	assert.Equal(t, "127.0.0.1:8080", Expand("${SERVICE_HOST}:${SERVICE_PORT}", vars))
	assert.Equal(t, "${MISSING}/x", Expand("${MISSING}/x", vars))
	assert.Equal(t, "plain", Expand("plain", vars))
	assert.Equal(t, "a${open", Expand("a${open", vars))
	assert.Equal(t, []string{"--bind", "127.0.0.1"}, ExpandAll([]string{"--bind", "${SERVICE_HOST}"}, vars))
}

func TestVars_With(t *testing.T) {
	base := Vars{"A": "1"}
	v := base.With("B", "2")
	assert.Equal(t, "2", v["B"])
	_, ok := base["B"]
	assert.False(t, ok, "With copies")
}

func TestFromOS(t *testing.T) {
	t.Setenv("SHIELDSERVE_ENV_TEST", "x=y")
	assert.Equal(t, "x=y", FromOS()["SHIELDSERVE_ENV_TEST"])
}

// FuzzExpandMerge checks Merge and Expand never panic and never emit
// malformed pairs.
func FuzzExpandMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=${"), []byte("Y=${X}}"))

	f.Fuzz(func(t *testing.T, baseB, overB []byte) {
		base := strings.Split(string(baseB), "\n")
		over := strings.Split(string(overB), "\n")
		out := Merge(base, over)
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		vars := parse(out)
		for _, kv := range over {
			_ = Expand(kv, vars)
		}
		if !strings.Contains(string(baseB)+string(overB), "$") {
			for _, kv := range out {
				if strings.Contains(Expand(kv, vars), "${") {
					t.Fatalf("placeholder introduced: %q", kv)
				}
			}
		}
	})
}
