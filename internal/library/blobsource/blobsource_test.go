package blobsource

import "testing"

func TestContainerNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://account.blob.core.windows.net/mycontainer", "mycontainer"},
		{"https://account.blob.core.windows.net/mycontainer/", "mycontainer"},
		{"mycontainer", "mycontainer"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := containerNameFromURL(tt.url); got != tt.want {
			t.Errorf("containerNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestNameIncludesContainerURL(t *testing.T) {
	s := New("https://account.blob.core.windows.net/mycontainer", "/tmp/cache", nil)
	want := "blob:https://account.blob.core.windows.net/mycontainer"
	if s.Name() != want {
		t.Errorf("Name() = %q, want %q", s.Name(), want)
	}
}

func TestInitRejectsEmptyContainerURL(t *testing.T) {
	s := New("", "/tmp/cache", nil)
	if err := s.Init(nil); err == nil {
		t.Error("Init should reject an empty container URL")
	}
}
