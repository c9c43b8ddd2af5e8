// Package providers contains the built-in application sub-resources.
//
// Register loads two extension namespaces, application_ruby and
// application_nodejs, plus the generic application_database and
// application_cache types and the bare passenger_apache2 type:
//
//	rails              -> application_ruby_rails
//	nodejs             -> application_nodejs_nodejs
//	database           -> application_database (PostgreSQL)
//	cache              -> application_cache (Redis)
//	passenger_apache2  -> passenger_apache2
package providers
