package migrations

func init() {
	Migrations.MustRegister(
		execFile("20250301120000_init.up.sql"),
		execFile("20250301120000_init.down.sql"),
	)
}
