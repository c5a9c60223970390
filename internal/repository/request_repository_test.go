package repository

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"support-app/session-service/internal/models"
)

func TestConditionalFilters(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 2_000_000, time.UTC)

	cases := []struct {
		name string
		got  bson.M
		want bson.M
	}{
		{
			name: "transition pins the current status",
			got:  transitionFilter("r1", models.StatusPending),
			want: bson.M{"_id": "r1", "status": models.StatusPending},
		},
		{
			name: "revert pins status and the issuing token",
			got:  revertFilter("r1", "tok"),
			want: bson.M{"_id": "r1", "status": models.StatusAccepted, "room_token": "tok"},
		},
		{
			name: "refresh only moves forward",
			got:  refreshFilter("r1", at),
			want: bson.M{"_id": "r1", "$or": bson.A{
				bson.M{"last_offline_at": bson.M{"$lte": at}},
				bson.M{"last_offline_at": bson.M{"$exists": false}},
			}},
		},
		{
			name: "swap pins the summary it read",
			got:  swapFilter("r1", at),
			want: bson.M{"_id": "r1", "last_offline_at": at},
		},
		{
			name: "swap from empty also matches a missing summary",
			got:  swapFilter("r1", time.Time{}),
			want: bson.M{"_id": "r1", "$or": bson.A{
				bson.M{"last_offline_at": time.Time{}},
				bson.M{"last_offline_at": bson.M{"$exists": false}},
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !reflect.DeepEqual(tc.got, tc.want) {
				t.Fatalf("filter = %#v, want %#v", tc.got, tc.want)
			}
		})
	}
}

// The filters only work if they address the fields the documents are stored
// under.
func TestFiltersMatchStoredFieldNames(t *testing.T) {
	raw, err := bson.Marshal(models.Request{ID: "r1", Status: models.StatusAccepted, RoomToken: "tok"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"_id", "status", "room_token", "last_offline_at"} {
		if _, ok := doc[field]; !ok {
			t.Fatalf("stored request has no %q field: %v", field, doc)
		}
	}
}
