package quality

import (
	"reflect"
	"testing"

	"github.com/wellsgz/speedpulse/internal/storage"
)

func TestRate(t *testing.T) {
	tests := []struct {
		name                   string
		ping, download, upload float64
		want                   Rating
	}{
		{"fast fibre", 10, 150, 150, Excellent},
		{"typical cable", 40, 60, 60, Good},
		{"congested dsl", 80, 10, 5, Poor},
		{"excellent boundary", 20, 100, 100, Excellent},
		{"asymmetric averages to excellent", 15, 160, 40, Excellent},
		{"low ping but slow", 5, 30, 30, Poor},
		{"good boundary", 50, 50, 50, Good},
		{"ping just over good", 50.5, 200, 200, Poor},
		{"ping just over excellent", 21, 200, 200, Good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rate(tt.ping, tt.download, tt.upload); got != tt.want {
				t.Errorf("Rate(%v, %v, %v) = %v, want %v", tt.ping, tt.download, tt.upload, got, tt.want)
			}
		})
	}
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name                   string
		ping, download, upload float64
		want                   []string
	}{
		{
			name: "top tier",
			ping: 10, download: 150, upload: 60,
			want: []string{
				"Excellent for 4K streaming and large downloads",
				"Great for video conferencing and content creation",
				"Excellent for online gaming",
			},
		},
		{
			name: "middle tier",
			ping: 35, download: 25, upload: 10,
			want: []string{
				"Good for HD streaming and video calls",
				"Adequate for video calls and file uploads",
				"Good for most online activities",
			},
		},
		{
			name: "bottom tier",
			ping: 120, download: 8, upload: 1,
			want: []string{
				"Suitable for basic browsing and SD streaming",
				"Limited upload capabilities",
				"May experience lag in real-time applications",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recommendations(tt.ping, tt.download, tt.upload)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Recommendations() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	got := Classify(15, 120, 40)
	if got.Rating != Excellent {
		t.Errorf("Classify().Rating = %v, want %v", got.Rating, Excellent)
	}
	if len(got.Recommendations) != 3 {
		t.Errorf("len(Classify().Recommendations) = %d, want 3", len(got.Recommendations))
	}
}

func TestIndicator(t *testing.T) {
	tests := []struct {
		kind  storage.Kind
		value float64
		want  Level
	}{
		{storage.KindPing, 12, LevelExcellent},
		{storage.KindPing, 20, LevelExcellent},
		{storage.KindPing, 45, LevelGood},
		{storage.KindPing, 51, LevelPoor},
		{storage.KindDownload, 100, LevelExcellent},
		{storage.KindDownload, 75, LevelGood},
		{storage.KindDownload, 49, LevelPoor},
		{storage.KindUpload, 50, LevelGood},
		{storage.KindUpload, 3, LevelPoor},
	}

	for _, tt := range tests {
		if got := Indicator(tt.kind, tt.value); got != tt.want {
			t.Errorf("Indicator(%s, %v) = %v, want %v", tt.kind, tt.value, got, tt.want)
		}
	}
}
