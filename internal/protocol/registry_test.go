package protocol

import "testing"

func TestIdRegistryAssignsIdsInOrder(t *testing.T) {
	reg, err := NewIdRegistry([]string{"T1", "T2", "T3"})
	if err != nil {
		t.Fatalf("NewIdRegistry: %v", err)
	}

	cases := []struct {
		name string
		want PacketTypeId
	}{
		{"<invalid>", 0},
		{"<control>", 1},
		{"T1", 2},
		{"T2", 3},
		{"T3", 4},
	}
	for _, tc := range cases {
		got, err := reg.IDOf(tc.name)
		if err != nil {
			t.Fatalf("IDOf(%q): %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("IDOf(%q) = %d, want %d", tc.name, got, tc.want)
		}
		name, err := reg.NameOf(tc.want)
		if err != nil {
			t.Fatalf("NameOf(%d): %v", tc.want, err)
		}
		if name != tc.name {
			t.Errorf("NameOf(%d) = %q, want %q", tc.want, name, tc.name)
		}
	}
}

func TestIdRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewIdRegistry([]string{"A", "A"}); err == nil {
		t.Fatal("expected error for duplicate name, got nil")
	}
}

func TestIdRegistryRejectsReservedNames(t *testing.T) {
	for _, name := range []string{"<invalid>", "<control>"} {
		if _, err := NewIdRegistry([]string{name}); err == nil {
			t.Fatalf("expected error for reserved name %q, got nil", name)
		}
	}
}

func TestIdRegistryUnknownLookups(t *testing.T) {
	reg, err := NewIdRegistry([]string{"A"})
	if err != nil {
		t.Fatalf("NewIdRegistry: %v", err)
	}
	if _, err := reg.IDOf("nope"); err == nil {
		t.Fatal("expected error for unknown name")
	}
	if _, err := reg.NameOf(99); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestOrderedIDsIsControlFirstThenRegistrationOrder(t *testing.T) {
	reg, err := NewIdRegistry([]string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("NewIdRegistry: %v", err)
	}
	ids := reg.OrderedIDs()
	want := []PacketTypeId{Control, 2, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("OrderedIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("OrderedIDs()[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}
