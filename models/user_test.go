package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
)

func TestSetPasswordHashes(t *testing.T) {
	user := models.User{Username: "reviewer"}
	if err := user.SetPassword("s3cret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if user.Password == "s3cret" || user.Password == "" {
		t.Fatalf("password stored in the clear: %q", user.Password)
	}

	if err := utils.ComparePassword(user.Password, "s3cret"); err != nil {
		t.Fatalf("ComparePassword with correct password: %v", err)
	}
	if err := utils.ComparePassword(user.Password, "wrong"); err == nil {
		t.Fatal("ComparePassword accepted a wrong password")
	}
}

func TestCapabilityList(t *testing.T) {
	user := models.User{Capabilities: " manage_photo_id , manage_store ,"}
	got := user.CapabilityList()
	if len(got) != 2 || got[0] != "manage_photo_id" || got[1] != "manage_store" {
		t.Fatalf("CapabilityList = %v", got)
	}
	if !models.CanManagePhotoID(got) {
		t.Fatal("stored capabilities do not grant photo ID access")
	}

	empty := models.User{}
	if got := empty.CapabilityList(); len(got) != 0 {
		t.Fatalf("CapabilityList on empty = %v", got)
	}
}

func TestPrepareGiveClearsPassword(t *testing.T) {
	user := models.User{Password: "$2a$10$hash"}
	user.PrepareGive()
	if user.Password != "" {
		t.Fatal("PrepareGive left the password hash in place")
	}
}
