package triplet

import "testing"

func TestCanonicalFolderSuffix(t *testing.T) {
	if got := Canonical("reports", Folder, false); got != "reports/" {
		t.Fatalf("want trailing slash for folder, got %q", got)
	}
	if got := Canonical("reports", Document, false); got != "reports" {
		t.Fatalf("document name must not get a trailing slash, got %q", got)
	}
}

func TestCanonicalCaseFolding(t *testing.T) {
	got := Canonical(`Some\Windows\Path.TXT`, Document, true)
	if got != "some/windows/path.txt" {
		t.Fatalf("case folding + separator normalization failed, got %q", got)
	}
}

func TestCanonicalTrimsSlashes(t *testing.T) {
	if got := Canonical("/reports/q1/", Folder, false); got != "reports/q1/" {
		t.Fatalf("want single trailing slash, got %q", got)
	}
}

func TestValidRequiresAtLeastOneView(t *testing.T) {
	empty := &Triplet{Name: "x"}
	if empty.Valid() {
		t.Fatal("triplet with no views must be invalid")
	}
	withLocal := &Triplet{Name: "x", Local: &LocalView{}}
	if !withLocal.Valid() {
		t.Fatal("triplet with a local view must be valid")
	}
}

func TestMergeAccumulatesViews(t *testing.T) {
	var tr *Triplet
	tr = Merge(tr, Semi{Name: "a", Local: &LocalView{Size: 1}})
	tr = Merge(tr, Semi{Name: "a", Remote: &RemoteView{ID: "r1"}})
	if tr.Local == nil || tr.Remote == nil {
		t.Fatal("merge must accumulate views from successive semi-triplets")
	}
	if tr.DB != nil {
		t.Fatal("merge must not fabricate a view that was never supplied")
	}
}
