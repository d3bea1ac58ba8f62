package extract

import (
	"reflect"
	"testing"
)

func TestWikilinks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single",
			text: "hello [[Agora]]",
			want: []string{"agora"},
		},
		{
			name: "case and space insensitive collapse",
			text: "[[Foo Bar]] [[foo  bar]]",
			want: []string{"foo-bar"},
		},
		{
			name: "multiple sorted",
			text: "[[zebra]] and [[apple]]",
			want: []string{"apple", "zebra"},
		},
		{
			name: "unbalanced brackets do not match",
			text: "broken [[link and ]]other[",
			want: nil,
		},
		{
			name: "empty wikilink dropped",
			text: "[[]] [[x]]",
			want: []string{"x"},
		},
		{
			name: "punctuation collapsed",
			text: "[[it's fine, really]]",
			want: []string{"it-s-fine-really"},
		},
		{
			name: "no entities",
			text: "nothing to see here",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wikilinks(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Wikilinks(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestHashtags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain",
			text: "hello #Agora",
			want: []string{"agora"},
		},
		{
			name: "mastodon html",
			text: `<p>hello #<span>Agora</span></p>`,
			want: []string{"agora"},
		},
		{
			name: "html and plain dedup to one",
			text: `#agora and #<span>Agora</span>`,
			want: []string{"agora"},
		},
		{
			name: "mid-word hash ignored",
			text: "foo#bar",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hashtags(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Hashtags(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNodeKey(t *testing.T) {
	tests := []struct {
		entity string
		want   string
	}{
		{"agora", "agora"},
		{"go/cat-tournament", "cat-tournament"},
		{"a/b/c", "c"},
		{"trailing/", ""},
	}

	for _, tt := range tests {
		if got := NodeKey(tt.entity); got != tt.want {
			t.Errorf("NodeKey(%q) = %q, want %q", tt.entity, got, tt.want)
		}
	}
}
