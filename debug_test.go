package colcache

import (
	"strings"
	"testing"
)

func TestDumpFlags(t *testing.T) {
	f := DumpValues | DumpDirty
	if !f.Contains(DumpValues) || f.Contains(DumpStale) || !DumpAll.Contains(f) {
		t.Errorf("** DumpFlags.Contains returned wrong results")
	}
}

func TestEnvDump(t *testing.T) {
	ps := newPartnerSchema()
	env := ps.newEnv(nil)
	ok(t, Write(env, ps.name, 2, "B"))
	ok(t, Write(env, ps.name, 1, "A"))
	ok(t, Write(env, ps.age, 1, 40))

	out := env.Dump(DumpValues | DumpDirty | DumpStale)
	expected := strings.Join([]string{
		dumpSep2,
		"res.partner.name string (2/16)",
		"res.partner.name#1 = A",
		"res.partner.name#2 = B",
		dumpSep2,
		"res.partner.age int (1/16)",
		"res.partner.age#1 = 40",
		"res.partner#1 dirty: name, age",
		"res.partner#2 dirty: name",
		"res.partner.display_name#1 stale",
		"res.partner.display_name#2 stale",
		"",
	}, "\n")
	if out != expected {
		t.Errorf("** Dump:\n%s\nwanted:\n%s", out, expected)
	}

	out = env.Dump(DumpAll)
	for _, s := range []string{"res.partner (5 fields, 2 dirty records)", "stats: writes = 3,"} {
		if !strings.Contains(out, s) {
			t.Errorf("** Dump(DumpAll) does not contain %q:\n%s", s, out)
		}
	}
}
