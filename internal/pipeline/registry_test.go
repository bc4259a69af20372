package pipeline

import (
	"testing"
)

func TestRegistry(t *testing.T) {
	def := &Definition{
		Name:   "registry-test",
		Stages: []Stage{{Name: "s1", Run: func(*Context) error { return nil }}},
	}
	Register(def)
	t.Cleanup(func() { unregister(def.Name) })

	got, ok := Lookup("registry-test")
	if !ok || got != def {
		t.Fatalf("Lookup() = %v, %v", got, ok)
	}
	if _, ok := Lookup("missing"); ok {
		t.Error("Lookup(missing) should report false")
	}

	found := false
	for _, d := range Definitions() {
		if d.Name == def.Name {
			found = true
		}
	}
	if !found {
		t.Error("Definitions() should include the registered definition")
	}
}

func TestRegister_Panics(t *testing.T) {
	def := &Definition{
		Name:   "registry-dup",
		Stages: []Stage{{Name: "s1", Run: func(*Context) error { return nil }}},
	}
	Register(def)
	t.Cleanup(func() { unregister(def.Name) })

	tests := []struct {
		name string
		def  *Definition
	}{
		{"duplicate", def},
		{"invalid", &Definition{Name: "registry-invalid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Register should panic")
				}
			}()
			Register(tt.def)
		})
	}
}

func TestDefinitions_Sorted(t *testing.T) {
	for _, name := range []string{"zz-sorted", "aa-sorted"} {
		Register(&Definition{Name: name, Stages: []Stage{{Name: "s", Run: func(*Context) error { return nil }}}})
		t.Cleanup(func() { unregister(name) })
	}
	defs := Definitions()
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name > defs[i].Name {
			t.Errorf("Definitions() not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
}
