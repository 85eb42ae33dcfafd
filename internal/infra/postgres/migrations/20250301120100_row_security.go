package migrations

func init() {
	Migrations.MustRegister(
		execFile("20250301120100_row_security.up.sql"),
		execFile("20250301120100_row_security.down.sql"),
	)
}
