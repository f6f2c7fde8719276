package main

import (
	"context"
	"fmt"
	"log"

	"lowcard/config"
	"lowcard/db"
)

func main() {
	env := config.Load()

	ctx := context.Background()
	postgres, err := db.NewPostgresStore(ctx, env)
	if err != nil {
		log.Fatalf("Failed to init postgres: %v", err)
	}
	defer postgres.Close()

	testUsers := []struct {
		id       string
		username string
		credits  int64
	}{
		{"alice", "Alice", 5000},
		{"bob", "Bob", 3000},
		{"carol", "Carol", 2000},
		{"dave", "Dave", 1000},
		{"merchant1", "MerchantMike", 10000},
	}

	fmt.Println("Seeding users with starting credits...")
	for _, u := range testUsers {
		balance, err := postgres.CreditCredits(ctx, u.id, u.username, u.credits)
		if err != nil {
			log.Printf("  failed to seed %s: %v", u.id, err)
			continue
		}
		fmt.Printf("  %s (%s) -> %d credits\n", u.username, u.id, balance)
	}

	testRooms := []struct {
		id      string
		name    string
		ownerID string
	}{
		{"room-lobby", "Lobby", "alice"},
		{"room-highstakes", "High Stakes Big Game", "bob"},
	}

	fmt.Println("\nSeeding rooms...")
	for _, r := range testRooms {
		if err := postgres.UpsertRoom(ctx, r.id, r.name, r.ownerID); err != nil {
			log.Printf("  failed to seed room %s: %v", r.id, err)
			continue
		}
		if err := postgres.AddRoomAdmin(ctx, r.id, r.ownerID); err != nil {
			log.Printf("  failed to grant room admin for %s: %v", r.id, err)
			continue
		}
		fmt.Printf("  %s (%s), owner=%s\n", r.name, r.id, r.ownerID)
	}

	fmt.Println("\nDone! Verifying seeded balances...")
	for _, u := range testUsers {
		balance, err := postgres.GetCredits(ctx, u.id)
		if err != nil {
			log.Printf("  failed to read back %s: %v", u.id, err)
			continue
		}
		fmt.Printf("  %s -> %d credits\n", u.id, balance)
	}
}
