package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"partner-portal/core"
)

// account provisions portal logins:
//
//	account -role admin -username alice
//	account -role partner -company "Acme Ltd" -email ops@acme.test
//
// The password is read from stdin; with -generate a random one is printed instead.
func main() {
	role := flag.String("role", "partner", "account role: admin or partner")
	username := flag.String("username", "", "administrator username")
	company := flag.String("company", "", "partner company name")
	email := flag.String("email", "", "partner login email")
	generate := flag.Bool("generate", false, "generate and print a random password")
	flag.Parse()

	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx := context.Background()

	password, err := readPassword(*generate)
	if err != nil {
		log.Fatalf("password: %v", err)
	}

	db, err := core.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()
	if err := core.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	repo := core.NewPgAccountRepository(db)
	hash, err := core.BcryptHasher{}.Hash(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	var id int64
	switch core.Role(*role) {
	case core.RoleAdministrator:
		if strings.TrimSpace(*username) == "" {
			log.Fatalf("-username is required for administrators")
		}
		id, err = repo.CreateAdministrator(ctx, strings.TrimSpace(*username), hash)
	case core.RoleBusinessPartner:
		if strings.TrimSpace(*company) == "" || strings.TrimSpace(*email) == "" {
			log.Fatalf("-company and -email are required for partners")
		}
		id, err = repo.CreatePartner(ctx, *company, *email, hash)
	default:
		log.Fatalf("unknown role %q", *role)
	}
	if errors.Is(err, core.ErrAccountExists) {
		log.Fatalf("account already exists")
	}
	if err != nil {
		log.Fatalf("create account: %v", err)
	}

	fmt.Printf("created %s account id=%d\n", *role, id)
	if *generate {
		fmt.Printf("password=%s\n", password)
	}
}

func readPassword(generate bool) (string, error) {
	if generate {
		return core.GeneratePassword(24)
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
