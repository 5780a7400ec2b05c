package repos

import (
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// seedIfEmpty inserts demo sellers, buyers and listings on a fresh database.
func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo users/products")

	type u struct {
		ID, Email, Name, Role, Hash string
	}
	mk := func(id, email, name, role, raw string) (u, error) {
		h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		return u{ID: id, Email: email, Name: name, Role: role, Hash: string(h)}, err
	}
	specs := [][4]string{
		{"u-sam", "sam@secondhand.test", "Sam", "USER"},
		{"u-alice", "alice@secondhand.test", "Alice", "USER"},
		{"u-bob", "bob@secondhand.test", "Bob", "USER"},
		{"u-admin", "admin@secondhand.test", "Admin", "ADMIN"},
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	now := Now()
	for _, s := range specs {
		x, err := mk(s[0], s[1], s[2], s[3], "Passw0rd!")
		if err != nil {
			return err
		}
		tx.MustExec(tx.Rebind(`INSERT INTO users(id,email,name,password_hash,role,created_at) VALUES(?,?,?,?,?,?)`),
			x.ID, x.Email, x.Name, x.Hash, x.Role, now)
	}

	tx.MustExec(tx.Rebind(`INSERT INTO products(id,seller_id,title,description,price_cents,status,created_at) VALUES
	  ('p-turntable','u-sam','Technics SL-1200 turntable','Serviced, new belt',42000,'available',?),
	  ('p-camera','u-sam','Olympus OM-1 body','Light seals replaced',18500,'available',?),
	  ('p-lamp','u-sam','Brass desk lamp','Rewired, 1960s',6000,'draft',?)`), now, now, now)

	return tx.Commit()
}
