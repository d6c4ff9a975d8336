package extract

import "testing"

func i64(v int64) *int64 { return &v }

func TestExtractScenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    Payload
		user  string
		uid   string
		count *int64
	}{
		{
			name: "all fields",
			in: Payload{Fields: []Field{
				{Name: "Username", Value: "alice"},
				{Name: "UserId", Value: "12345"},
				{Name: "Execution Count", Value: "7 times"},
			}},
			user: "alice", uid: "12345", count: i64(7),
		},
		{
			name: "description only",
			in:   Payload{Description: "Username: bob\nUserId: 999"},
			user: "bob", uid: "999",
		},
		{
			name: "user exact name and spaced id",
			in: Payload{Fields: []Field{
				{Name: "  USER ", Value: " carol "},
				{Name: "User ID", Value: "id=<@4242>"},
			}},
			user: "carol", uid: "4242",
		},
		{
			name: "non numeric user id falls back to raw value",
			in:   Payload{Fields: []Field{{Name: "user_id", Value: "  anon-user "}}},
			uid:  "anon-user",
		},
		{
			name: "count without digits is absent",
			in: Payload{Fields: []Field{
				{Name: "Username", Value: "dave"},
				{Name: "execution count", Value: "many"},
			}},
			user: "dave",
		},
		{
			name: "later field wins",
			in: Payload{Fields: []Field{
				{Name: "Username", Value: "first"},
				{Name: "Roblox Username", Value: "second"},
			}},
			user: "second",
		},
		{
			name: "description dash separator",
			in:   Payload{Description: "executed by\nusername - erin\nuserid-77"},
			user: "erin", uid: "77",
		},
		{
			name: "nothing usable",
			in: Payload{
				Title:       "Script executed",
				Description: "no identity here",
				Fields:      []Field{{Name: "Game", Value: "Place 1"}},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Extract(tt.in)
			if got.Username != tt.user {
				t.Fatalf("Username = %q, want %q", got.Username, tt.user)
			}
			if got.UserID != tt.uid {
				t.Fatalf("UserID = %q, want %q", got.UserID, tt.uid)
			}
			switch {
			case tt.count == nil && got.ExecutionCount != nil:
				t.Fatalf("ExecutionCount = %d, want absent", *got.ExecutionCount)
			case tt.count != nil && got.ExecutionCount == nil:
				t.Fatalf("ExecutionCount absent, want %d", *tt.count)
			case tt.count != nil && *got.ExecutionCount != *tt.count:
				t.Fatalf("ExecutionCount = %d, want %d", *got.ExecutionCount, *tt.count)
			}
		})
	}
}

func TestExtractUserIDIndependentOfOrder(t *testing.T) {
	t.Parallel()
	base := []Field{
		{Name: "Username", Value: "alice"},
		{Name: "Execution Count", Value: "3"},
		{Name: "Executor", Value: "Synapse 2"},
	}
	id := Field{Name: "UserID", Value: "Profile: 5551234 (link)"}

	for pos := 0; pos <= len(base); pos++ {
		fields := append([]Field(nil), base[:pos]...)
		fields = append(fields, id)
		fields = append(fields, base[pos:]...)

		got := Extract(Payload{Fields: fields})
		if got.UserID != "5551234" {
			t.Fatalf("position %d: UserID = %q, want 5551234", pos, got.UserID)
		}
	}
}

func TestExtractFieldsBeatDescription(t *testing.T) {
	t.Parallel()
	got := Extract(Payload{
		Description: "Username: fromdesc\nUserId: 1",
		Fields: []Field{
			{Name: "Username", Value: "fromfield"},
			{Name: "UserId", Value: "2"},
		},
	})
	if got.Username != "fromfield" || got.UserID != "2" {
		t.Fatalf("got (%q, %q), want field values", got.Username, got.UserID)
	}

	// Only the missing identity is filled from the description.
	got = Extract(Payload{
		Description: "Username: fromdesc\nUserId: 1",
		Fields:      []Field{{Name: "Username", Value: "fromfield"}},
	})
	if got.Username != "fromfield" || got.UserID != "1" {
		t.Fatalf("got (%q, %q), want (fromfield, 1)", got.Username, got.UserID)
	}
}

func TestExtractEmpty(t *testing.T) {
	t.Parallel()
	got := Extract(Payload{})
	if got.HasIdentity() {
		t.Fatalf("empty payload should have no identity: %+v", got)
	}
	if got.ExecutionCount != nil {
		t.Fatal("empty payload should have no count")
	}
}

func TestExtractCountOverflow(t *testing.T) {
	t.Parallel()
	got := Extract(Payload{Fields: []Field{{Name: "Execution Count", Value: "99999999999999999999999"}}})
	if got.ExecutionCount != nil {
		t.Fatalf("overflowing count should be absent, got %d", *got.ExecutionCount)
	}
}
