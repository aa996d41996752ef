package database

import (
	"testing"

	"roomchat/models"
)

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("postgres", "x"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenMigratesSchema(t *testing.T) {
	db := OpenTest(t)
	for _, m := range models.All() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("expected table for %T", m)
		}
	}
	if !db.Migrator().HasTable("conversation_users") {
		t.Fatalf("expected join table conversation_users")
	}
}

func TestConversationDeleteCascadesMessages(t *testing.T) {
	db := OpenTest(t)
	a := models.User{Email: "a@example.com", Name: "A", PasswordHash: "x"}
	b := models.User{Email: "b@example.com", Name: "B", PasswordHash: "x"}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("create b: %v", err)
	}
	conv := models.Conversation{Users: []models.User{a, b}}
	if err := db.Omit("Users.*").Create(&conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msg := models.Message{ConversationID: conv.ID, Body: "hi", SentToID: b.ID, CreatedByID: a.ID}
	if err := db.Omit("SentTo", "CreatedBy").Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := db.Select("Users").Delete(&conv).Error; err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	var n int64
	db.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&n)
	if n != 0 {
		t.Fatalf("expected messages to cascade, %d left", n)
	}
}
