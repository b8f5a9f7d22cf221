package process

import "testing"

// Real kills are exercised through browser teardown; unit tests stay on
// PIDs that cannot hit a live process group.

func TestKillTree_NonPositivePID(t *testing.T) {
	t.Parallel()

	for _, pid := range []int{0, -1} {
		if err := KillTree(pid); err != nil {
			t.Errorf("KillTree(%d) = %v, want nil", pid, err)
		}
	}
}

func TestKillTree_MissingProcess(t *testing.T) {
	t.Parallel()

	if err := KillTree(999999999); err != nil {
		t.Errorf("KillTree(missing) = %v, want nil", err)
	}
}
