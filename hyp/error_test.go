package hyp

import "testing"

func TestError(t *testing.T) {
	err := New("pagetrack", KindReservedPage, "page is reserved")

	if got, want := err.Error(), "pagetrack: page is reserved"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}

	if !Is(err, KindReservedPage) {
		t.Fatalf("Is(err, KindReservedPage) = false; want true")
	}

	if Is(err, KindOwnerOverflow) {
		t.Fatalf("Is(err, KindOwnerOverflow) = true; want false")
	}

	if Is(nil, KindReservedPage) {
		t.Fatalf("Is(nil, _) = true; want false")
	}
}
