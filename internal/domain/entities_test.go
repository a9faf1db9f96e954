package domain

import "testing"

func TestAggregateStatus(t *testing.T) {
	cases := map[string]struct {
		statuses []DeliveryStatus
		expected ContentStatus
	}{
		"все опубликованы":    {[]DeliveryStatus{DeliveryPublished, DeliveryPublished}, ContentPublished},
		"все провалены":       {[]DeliveryStatus{DeliveryFailed, DeliveryFailed}, ContentFailed},
		"частичный успех":     {[]DeliveryStatus{DeliveryPublished, DeliveryFailed}, ContentPartiallyPublished},
		"есть незавершённые":  {[]DeliveryStatus{DeliveryPublished, DeliveryPublishing}, ContentPublishing},
		"есть ожидающие":      {[]DeliveryStatus{DeliveryFailed, DeliveryPending}, ContentPublishing},
		"одна успешная":       {[]DeliveryStatus{DeliveryPublished}, ContentPublished},
		"пустой список":       {nil, ContentPublished},
	}
	for name, tc := range cases {
		deliveries := make([]PlatformDelivery, 0, len(tc.statuses))
		for _, status := range tc.statuses {
			deliveries = append(deliveries, PlatformDelivery{Status: status})
		}
		if got := AggregateStatus(deliveries); got != tc.expected {
			t.Fatalf("%s: ожидали %s, получили %s", name, tc.expected, got)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	for _, platform := range []Platform{PlatformTwitter, PlatformLinkedIn, PlatformReddit, PlatformTelegram} {
		if !platform.Valid() {
			t.Fatalf("площадка %s должна быть поддержана", platform)
		}
	}
	if Platform("facebook").Valid() {
		t.Fatalf("неизвестная площадка не должна считаться поддержанной")
	}
	if !PlatformTwitter.RequiresPKCE() {
		t.Fatalf("twitter требует PKCE")
	}
	if PlatformLinkedIn.RequiresPKCE() {
		t.Fatalf("linkedin не требует PKCE")
	}
}
